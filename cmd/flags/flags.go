// Package flags holds the flags every queue subcommand shares for locating
// the queue directory.
package flags

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/marketqueue/internal/di"
)

const (
	dirFlag    = "dir"
	dirDesc    = "filesystem path of the queue directory"
	configFlag = "config"
	configDesc = "path to a YAML configuration file; --dir overrides its directory"
)

// Location is where a subcommand finds its queue.
type Location struct {
	Dir    string
	Config string
}

// Register adds --dir and --config to cmd.
func (l *Location) Register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&l.Dir, dirFlag, "d", "", dirDesc)
	cmd.Flags().StringVarP(&l.Config, configFlag, "c", "", configDesc)
}

// Container builds the dependency container for the flags given.
func (l *Location) Container() (*di.Container, error) {
	return di.ResolveContainer(l.Config, l.Dir)
}
