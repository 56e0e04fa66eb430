////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

// CLI flag name constants, organized by subcommand with root-level flags at
// the top. Pulling flags through viper should use the constants defined here.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	// Backend flags
	apiURLFlag = "api-url"
	tokenFlag  = "token"

	// Identity flags
	userIDFlag    = "user-id"
	trainerIDFlag = "trainer-id"

	// Sync flags
	pollIntervalFlag = "poll-interval"
	fullFetchFlag    = "full-fetch"
	invertedFlag     = "inverted"
	chatParamsFlag   = "chat-params"
	streamURLFlag    = "stream-url"

	// Storage flags
	sessionFlag  = "session"
	passwordFlag = "password"

	// Log flags
	logLevelFlag = "logLevel"
	logFlag      = "log"

	// Misc
	profileCPUFlag = "profile-cpu"

	///////////////// Conversations subcommand flags //////////////////////////
	watchFlag = "watch"
)
