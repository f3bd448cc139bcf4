// Package command represents the volume lifecycle commands a VM can issue.
package command

import "fmt"

// The set of commands that can be authorized.
var (
	Create = newCommand("create")
	Remove = newCommand("remove")
	List   = newCommand("list")
	Get    = newCommand("get")
	Attach = newCommand("attach")
	Detach = newCommand("detach")
)

// =============================================================================

// Set of known commands.
var commands = make(map[string]Command)

// Command represents a volume command in the system.
type Command struct {
	value string
}

func newCommand(command string) Command {
	c := Command{command}
	commands[command] = c
	return c
}

// String returns the name of the command.
func (c Command) String() string {
	return c.value
}

// IsZero reports whether the command was never set.
func (c Command) IsZero() bool {
	return c.value == ""
}

// Equal provides support for the go-cmp package and testing.
func (c Command) Equal(c2 Command) bool {
	return c.value == c2.value
}

// MarshalText provides support for logging and any marshal needs.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.value), nil
}

// =============================================================================

// Parse parses the string value and returns a command if one exists.
func Parse(value string) (Command, error) {
	command, exists := commands[value]
	if !exists {
		return Command{}, fmt.Errorf("invalid command %q", value)
	}

	return command, nil
}

// MustParse parses the string value and returns a command if one exists. If
// an error occurs the function panics.
func MustParse(value string) Command {
	command, err := Parse(value)
	if err != nil {
		panic(err)
	}

	return command
}
