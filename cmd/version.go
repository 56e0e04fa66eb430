////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// SEMVER is the current semantic version of the chat client.
const SEMVER = "0.3.0"

// Version returns the full version string.
func Version() string {
	return fmt.Sprintf("GymLink chat client v%s (%s)", SEMVER,
		runtime.Version())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the chat client",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
