////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_Flags(t *testing.T) {
	for _, name := range []string{logLevelFlag, logFlag, configFlag} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}

	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"chat", "relay", "version"})
}
