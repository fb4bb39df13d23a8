package session

import (
	"fmt"
	"strings"
)

// functionHelp prints helpful information about specific commands.
func (c *Client) functionHelp(line string) {
	args := strings.Split(line, " ")
	args = args[1:] // chop off the first word which should be "help"
	var helpKey string
	if len(args) == 0 {
		helpKey = "help"
	} else {
		helpKey = strings.TrimPrefix(args[0], `\`)
	}
	switch helpKey {
	case "append":
		fmt.Fprintln(c.out, `
		The append command writes the rest of the line as one record and prints its index.
		The session holds the writer role from the first append until it ends.

		Syntax:

			>> \append <record>

		- Example:

			>> \append AAPL 187.20`)

	case "read":
		fmt.Fprintln(c.out, `
		The read command prints the record at an index.

		Syntax:

			>> \read <index>`)

	case "tail":
		fmt.Fprintln(c.out, `
		The tail command prints records in index order.

		Syntax:

			>> \tail [<from index> [<limit>]]

		- Example: the first 20 records:

			>> \tail

		- Example: 5 records from index 1099511627776:

			>> \tail 1099511627776 5`)

	case "stats", "verify":
		fmt.Fprintln(c.out, `
	stats: displays the queue settings and the header of every segment
	verify: checks every record against its checksum`)

	case "help":
		fmt.Fprintln(c.out, `
		Usage: \help command_name

		Available commands: append, read, tail, stats, verify`)

	default:
		fmt.Fprintf(c.out, "No help available for %s\n", helpKey)
	}
}
