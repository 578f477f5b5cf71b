package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"screen-share/pkg/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List rooms announced on the local network",
	RunE:  runDiscover,
}

var discoverTimeout time.Duration

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "how long to listen")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	anns, err := discovery.Discover(contextOf(cmd), discoverTimeout)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(anns) == 0 {
		fmt.Fprintln(out, "no rooms found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tSIGNAL URL\tNAME")
	for _, a := range anns {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.RoomCode, a.SignalURL, a.Name)
	}
	return w.Flush()
}
