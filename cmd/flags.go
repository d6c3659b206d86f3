////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

// This is a comprehensive list of CLI flag name constants. Organized by
// subcommand, with root level CLI flags at the top of the list. Pulling flags
// using Viper should use the constants defined here.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	// Log flags
	logLevelFlag = "logLevel"
	logFlag      = "log"

	// Misc
	configFlag = "config"

	///////////////// Relay subcommand flags //////////////////////////////////
	addressFlag         = "address"
	basePathFlag        = "basePath"
	storageFlag         = "storage"
	storagePasswordFlag = "storagePassword"
	relayParamsFlag     = "relayParams"

	///////////////// Chat subcommand flags ///////////////////////////////////
	serverFlag             = "server"
	userFlag               = "user"
	peerFlag               = "peer"
	conversationParamsFlag = "conversationParams"
)

// envPrefix is prepended to every flag when read from the environment.
const envPrefix = "MARKETCHAT"
