package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmdHasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"train", "predict", "serve"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "expected subcommand %q not found in root", name)
	}
}

func TestNewRootCmdHasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
