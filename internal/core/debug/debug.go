// Package debug contains optional tooling for inspecting the frames exchanged
// with the multiworld server. Everything in here is disabled unless frame
// logging is turned on in the config.
package debug

import (
	"github.com/davecgh/go-spew/spew"
)

var enabled bool

// SetEnabled toggles frame logging for the process. Expected to be called once
// during startup based on the loaded config.
func SetEnabled(on bool) {
	enabled = on
}

// Enabled returns whether or not the client was set to log frames.
func Enabled() bool {
	return enabled
}

var dumper = spew.ConfigState{Indent: "  ", DisableMethods: true, SortKeys: true}

// DumpFrame renders a decoded frame (or any packet struct) into a multi-line
// string suitable for the debug log.
func DumpFrame(direction string, v interface{}) string {
	return "[" + direction + "] " + dumper.Sdump(v)
}
