////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/gymlink/chat-client/chat"
	"gitlab.com/gymlink/chat-client/stream"
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Runs an interactive chat with a GymLink trainer",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))
		jww.INFO.Printf(Version())

		if viper.GetString(profileCPUFlag) != "" {
			p := profile.Start(profile.CPUProfile,
				profile.ProfilePath(viper.GetString(profileCPUFlag)))
			defer p.Stop()
		}

		session := chat.Session{
			UserID:    viper.GetInt64(userIDFlag),
			PartnerID: viper.GetInt64(trainerIDFlag),
		}
		if session.UserID == 0 || session.PartnerID == 0 {
			jww.FATAL.Panicf("Both --%s and --%s are required.",
				userIDFlag, trainerIDFlag)
		}

		transport := buildTransport(session.UserID)
		client := chat.NewClient(
			session, transport, openKV(), buildChatParams())

		client.AddListener(printEvent(session.UserID))
		client.Health().AddHealthCallback(func(isHealthy bool) {
			if isHealthy {
				fmt.Println("-- connected --")
			} else {
				fmt.Println("-- connection lost, retrying --")
			}
		})

		if err := client.Initialize(cmd.Context()); err != nil {
			jww.WARN.Printf("Initial fetch failed; continuing: %+v", err)
		}
		for _, m := range client.Conversation().Messages() {
			printMessage(session.UserID, m)
		}

		if _, err := client.StartPolling(0); err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		defer func() {
			if err := client.StopPolling(); err != nil {
				jww.WARN.Printf("Failed to stop polling: %+v", err)
			}
		}()

		if wsURL := viper.GetString(streamURLFlag); wsURL != "" {
			sub := stream.NewSubscription(wsURL,
				viper.GetString(tokenFlag), client,
				stream.GetDefaultParams())
			stop, err := sub.StartListening()
			if err != nil {
				jww.FATAL.Panicf("%+v", err)
			}
			defer func() { _ = stop.Close() }()
		}

		runInputLoop(cmd.Context(), client)
	},
}

// runInputLoop reads lines from stdin and sends each as a message until EOF
// or an interrupt.
func runInputLoop(ctx context.Context, client *chat.Client) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-interrupt:
			fmt.Println("\n-- leaving chat --")
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Println("-- leaving chat --")
				return
			}
			if _, err := client.Send(ctx, line); err != nil {
				// Only empty input is rejected locally; network failures
				// surface through the event stream
				jww.DEBUG.Printf("Send rejected: %+v", err)
			}
		}
	}
}

// printEvent renders conversation events for the terminal.
func printEvent(me int64) chat.Listener {
	return func(e chat.Event) {
		switch e.Type {
		case chat.ListUpdated:
			for _, m := range e.Added {
				if m.SenderID != me {
					printMessage(me, m)
				}
			}
		case chat.SendFailed:
			fmt.Printf("!! failed to send: %s\n", e.Message.Text)
		}
	}
}

func printMessage(me int64, m chat.Message) {
	who := "them"
	if m.SenderID == me {
		who = "you"
	}
	suffix := ""
	switch m.Status {
	case chat.Sending:
		suffix = " (sending)"
	case chat.Failed:
		suffix = " (failed)"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		m.Timestamp.Local().Format("15:04"), who, m.Text, suffix)
}

// init is the initialization function for Cobra which defines commands
// and flags.
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().UintP(logLevelFlag, "v", 0,
		"Verbose mode for debugging")
	viperBind(logLevelFlag)

	rootCmd.PersistentFlags().StringP(logFlag, "l", "-",
		"Path to the log output path (- is stdout)")
	viperBind(logFlag)

	rootCmd.PersistentFlags().String(apiURLFlag, "",
		"Base URL of the GymLink REST backend")
	viperBind(apiURLFlag)

	rootCmd.PersistentFlags().String(tokenFlag, "",
		"Bearer token attached to every request")
	viperBind(tokenFlag)

	rootCmd.PersistentFlags().Int64P(userIDFlag, "u", 0,
		"ID of the local user")
	viperBind(userIDFlag)

	rootCmd.PersistentFlags().StringP(sessionFlag, "s", "",
		"Storage directory for local chat state; empty keeps state in memory")
	viperBind(sessionFlag)

	rootCmd.PersistentFlags().StringP(passwordFlag, "p", "",
		"Password to the session store")
	viperBind(passwordFlag)

	rootCmd.PersistentFlags().Duration(pollIntervalFlag, 0,
		"Override the poll period (default 3s)")
	viperBind(pollIntervalFlag)

	rootCmd.PersistentFlags().String(chatParamsFlag, "",
		"JSON overrides for the chat parameters")
	viperBind(chatParamsFlag)

	rootCmd.PersistentFlags().String(profileCPUFlag, "",
		"Enable CPU profiling to this directory")
	viperBind(profileCPUFlag)

	rootCmd.Flags().Int64P(trainerIDFlag, "t", 0,
		"ID of the trainer to chat with")
	viperBindFlag(trainerIDFlag)

	rootCmd.Flags().Bool(fullFetchFlag, false,
		"Refetch the whole conversation on every poll instead of fetching "+
			"incrementally")
	viperBindFlag(fullFetchFlag)

	rootCmd.Flags().Bool(invertedFlag, false,
		"Keep the list newest-first instead of oldest-first")
	viperBindFlag(invertedFlag)

	rootCmd.Flags().String(streamURLFlag, "",
		"Websocket URL of the live chat feed; enables push alongside polling")
	viperBindFlag(streamURLFlag)
}

func viperBind(flag string) {
	if err := viper.BindPFlag(
		flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		jww.FATAL.Panicf("Failed to bind flag %q: %+v", flag, err)
	}
}

func viperBindFlag(flag string) {
	if err := viper.BindPFlag(
		flag, rootCmd.Flags().Lookup(flag)); err != nil {
		jww.FATAL.Panicf("Failed to bind flag %q: %+v", flag, err)
	}
}

// initConfig reads in the config file from the home directory when present.
func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	viper.AddConfigPath(home)
	viper.SetConfigName(".gymlink-chat")
	viper.SetConfigType("yaml")

	if err = viper.ReadInConfig(); err == nil {
		jww.INFO.Printf("Using config file: %s", viper.ConfigFileUsed())
	}
}
