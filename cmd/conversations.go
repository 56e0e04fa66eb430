////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/gymlink/chat-client/chat"
)

// conversationsCmd lists every conversation of the local user with unread
// counts, the trainer-side view over all of their clients.
var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Lists all conversations with their unread counts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))

		session := chat.Session{UserID: viper.GetInt64(userIDFlag)}
		if session.UserID == 0 {
			jww.FATAL.Panicf("--%s is required.", userIDFlag)
		}

		transport := buildTransport(session.UserID)
		manager := chat.NewManager(
			session, transport, openKV(), buildChatParams())

		if err := manager.Initialize(cmd.Context()); err != nil {
			jww.FATAL.Panicf("Failed to fetch conversations: %+v", err)
		}

		printSummaries(manager)

		if !viper.GetBool(watchFlag) {
			return
		}

		// Keep polling and reprint on every change
		manager.AddListener(func(e chat.Event) {
			if e.Type == chat.ListUpdated {
				printSummaries(manager)
			}
		})
		if _, err := manager.StartPolling(0); err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		defer func() {
			if err := manager.StopPolling(); err != nil {
				jww.WARN.Printf("Failed to stop polling: %+v", err)
			}
		}()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		<-interrupt
	},
}

func printSummaries(manager *chat.Manager) {
	summaries := manager.Summaries()
	if len(summaries) == 0 {
		fmt.Println("no conversations")
		return
	}

	fmt.Printf("%-10s %-8s %-19s %s\n",
		"PARTNER", "UNREAD", "LAST ACTIVITY", "LAST MESSAGE")
	for _, s := range summaries {
		text := s.LastMessage.Text
		if len(text) > 40 {
			text = text[:37] + "..."
		}
		fmt.Printf("%-10d %-8d %-19s %s\n",
			s.PartnerID, s.Unread,
			s.LastMessage.Timestamp.Local().Format("2006-01-02 15:04:05"),
			text)
	}
}

func init() {
	conversationsCmd.Flags().BoolP(watchFlag, "w", false,
		"Keep polling and reprint the listing as messages arrive")
	if err := viper.BindPFlag(
		watchFlag, conversationsCmd.Flags().Lookup(watchFlag)); err != nil {
		jww.FATAL.Panicf("Failed to bind flag %q: %+v", watchFlag, err)
	}

	rootCmd.AddCommand(conversationsCmd)
}
