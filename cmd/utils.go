////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"io"
	"log"
	"os"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/gymlink/chat-client/chat"
	"gitlab.com/gymlink/chat-client/rest"
	"gitlab.com/gymlink/chat-client/storage/versioned"
)

func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: TRACE")
	} else if threshold == 1 {
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
		jww.INFO.Printf("log level set to: DEBUG")
	} else {
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
		jww.INFO.Printf("log level set to: INFO")
	}
}

// openKV opens the local store. With no session directory the store is
// memory-backed, which mirrors the reset-on-remount behavior of the app.
func openKV() *versioned.KV {
	storeDir := viper.GetString(sessionFlag)
	if storeDir == "" {
		return versioned.NewKV(ekv.MakeMemstore())
	}

	fs, err := ekv.NewFilestore(storeDir, viper.GetString(passwordFlag))
	if err != nil {
		jww.FATAL.Panicf("Failed to open session store at %q: %+v",
			storeDir, err)
	}
	return versioned.NewKV(fs)
}

// buildTransport builds the REST transport from the bound flags.
func buildTransport(localUser int64) *rest.Client {
	apiURL := viper.GetString(apiURLFlag)
	if apiURL == "" {
		jww.FATAL.Panicf("No backend URL; set --%s.", apiURLFlag)
	}

	return rest.NewClient(apiURL, viper.GetString(tokenFlag), localUser,
		rest.GetDefaultParams())
}

// buildChatParams assembles chat.Params from the bound flags, starting from
// an optional JSON override.
func buildChatParams() chat.Params {
	params, err := chat.GetParameters(viper.GetString(chatParamsFlag))
	if err != nil {
		jww.FATAL.Panicf("Failed to parse chat params: %+v", err)
	}

	if interval := viper.GetDuration(pollIntervalFlag); interval > 0 {
		params.PollInterval = interval
	}
	if viper.GetBool(fullFetchFlag) {
		params.FetchMode = chat.FetchWholesale
	}
	if viper.GetBool(invertedFlag) {
		params.Order = chat.Descending
	}

	return params
}
