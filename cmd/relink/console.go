package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relink-mw/relink/internal/protocol"
	"github.com/relink-mw/relink/internal/session"
)

// servicePeriod is how often the session is polled for transport progress.
const servicePeriod = 50 * time.Millisecond

// console owns the session and multiplexes the poll tick with stdin commands
// on a single goroutine, so the session never needs locking.
type console struct {
	session *session.Session
	lines   chan string
	done    chan struct{}
}

func newConsole(s *session.Session) *console {
	c := &console{
		session: s,
		lines:   make(chan string),
		done:    make(chan struct{}),
	}

	s.SetStateHandler(func(old, new session.State) {
		fmt.Printf("* %s\n", s.StatusMessage())
	})
	s.SetItemHandler(func(item session.Item) {
		name := item.Name
		if name == "" {
			name = fmt.Sprintf("item %d", item.ID)
		}
		fmt.Printf("* received %s from player %d\n", name, item.Player)
	})
	s.SetLocationHandler(func(id int64) {
		fmt.Printf("* checked location %d\n", id)
	})
	s.SetPrintHandler(func(text string, priority int) {
		fmt.Println(text)
	})

	return c
}

func (c *console) run() error {
	fmt.Println("relink multiworld console; type 'help' for commands")

	go c.readStdin()

	ticker := time.NewTicker(servicePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.session.Service()
		case line, ok := <-c.lines:
			if !ok {
				c.session.Disconnect()
				return nil
			}
			c.handle(line)
		case <-c.done:
			c.session.Disconnect()
			return nil
		}
	}
}

func (c *console) readStdin() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)
}

func (c *console) handle(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "connect":
		var endpoint, slot string
		if len(args) > 0 {
			endpoint = args[0]
		}
		if len(args) > 1 {
			slot = args[1]
		}
		if err := c.session.Connect(endpoint, slot, ""); err != nil {
			fmt.Println("connect failed:", err)
		}
	case "disconnect":
		c.session.Disconnect()
	case "status":
		fmt.Println(c.session.StatusMessage())
	case "check":
		ids, err := parseIDs(args)
		if err != nil {
			fmt.Println(err)
			return
		}
		c.session.CheckLocations(ids)
	case "checked":
		for _, id := range c.session.CheckedLocations() {
			fmt.Println(id)
		}
	case "items":
		for _, item := range c.session.Items() {
			name := item.Name
			if name == "" {
				name = strconv.FormatInt(item.ID, 10)
			}
			fmt.Printf("%s (from player %d)\n", name, item.Player)
		}
	case "say":
		if len(args) == 0 {
			fmt.Println("usage: say <text>")
			return
		}
		c.session.Say(strings.Join(args, " "))
	case "hint":
		ids, err := parseIDs(args)
		if err != nil {
			fmt.Println(err)
			return
		}
		for _, id := range ids {
			c.session.RequestHint(id)
		}
	case "goal":
		c.session.UpdateStatus(protocol.StatusGoal)
	case "help":
		printHelp()
	case "quit", "exit":
		close(c.done)
	default:
		fmt.Printf("unknown command %q; type 'help' for commands\n", cmd)
	}
}

func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected one or more location ids")
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid location id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printHelp() {
	fmt.Print(`commands:
  connect [host:port] [slot]  connect using the config (or the given overrides)
  disconnect                  close the current session
  status                      print the session status line
  check <id>...               report one or more location checks
  checked                     list locations already reported
  items                       list items received this session
  say <text>                  send a chat message to the room
  hint <id>...                ask the server to hint a location
  goal                        report the goal as completed
  quit                        disconnect and exit
`)
}
