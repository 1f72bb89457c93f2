package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/energizer-project/matchmaker/internal/config"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}

			fmt.Printf(banner, version)
			fmt.Println()
			fmt.Printf("  Version:       %s\n", version)
			fmt.Printf("  Commit:        %s\n", commit)
			fmt.Printf("  Built:         %s\n", date)
			fmt.Printf("  Game protocol: v%d r%d\n", config.DefaultGameVersion, config.DefaultGameRevision)
			fmt.Printf("  Go version:    %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Println()
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}
