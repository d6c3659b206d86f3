////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/marketchat/relay"
	"gitlab.com/elixxir/marketchat/storage/versioned"
	"gitlab.com/elixxir/marketchat/store"
)

// shutdownTimeout bounds how long open requests get to finish on exit.
const shutdownTimeout = 5 * time.Second

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Runs the messaging relay",
	Long: "Serves the REST history and send endpoints and the websocket " +
		"push channel. Messages are kept in memory unless a storage " +
		"directory is given.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		p, err := relay.GetParameters(viper.GetString(relayParamsFlag))
		if err != nil {
			jww.FATAL.Panicf("Failed to parse relay params: %+v", err)
		}
		if addr := viper.GetString(addressFlag); addr != "" {
			p.Address = addr
		}
		if base := viper.GetString(basePathFlag); base != "" {
			p.BasePath = base
		}

		r := relay.New(p, store.New(initKV()))

		done := make(chan error, 1)
		go func() { done <- r.ListenAndServe() }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case err = <-done:
			if err != nil {
				jww.FATAL.Panicf("%+v", err)
			}
			return
		case s := <-sig:
			jww.INFO.Printf("Received %s, shutting down", s)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = r.Shutdown(ctx); err != nil {
			jww.ERROR.Printf("Unclean shutdown: %+v", err)
		}
		if err = <-done; err != nil {
			jww.ERROR.Printf("%+v", err)
		}
	},
}

// initKV opens the storage directory, or an in-memory store when none is
// configured.
func initKV() *versioned.KV {
	dir := viper.GetString(storageFlag)
	if dir == "" {
		jww.WARN.Printf("No storage directory given, messages are kept " +
			"in memory only")
		return versioned.NewMemKV()
	}
	kv, err := versioned.NewFileKV(dir, viper.GetString(storagePasswordFlag))
	if err != nil {
		jww.FATAL.Panicf("Failed to open storage at %s: %+v", dir, err)
	}
	jww.INFO.Printf("Storing messages in %s", dir)
	return kv
}

func init() {
	relayCmd.Flags().StringP(addressFlag, "a", "",
		"Address to listen on, defaults to :8080")
	bindFlagHelper(addressFlag, relayCmd)

	relayCmd.Flags().String(basePathFlag, "",
		"Path prefix of every route, defaults to /api")
	bindFlagHelper(basePathFlag, relayCmd)

	relayCmd.Flags().StringP(storageFlag, "s", "",
		"Directory to persist messages in. Empty keeps them in memory")
	bindFlagHelper(storageFlag, relayCmd)

	relayCmd.Flags().StringP(storagePasswordFlag, "p", "",
		"Password the storage directory is encrypted with")
	bindFlagHelper(storagePasswordFlag, relayCmd)

	relayCmd.Flags().String(relayParamsFlag, "",
		"Relay parameters as JSON, overriding the defaults")
	bindFlagHelper(relayParamsFlag, relayCmd)

	rootCmd.AddCommand(relayCmd)
}
