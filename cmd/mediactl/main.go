package main

import (
	"github.com/nik9play/mediactl/pkg/cli"
)

var (
	gitCommit  string
	versionTag string
	buildType  string
)

func main() {
	version := versionTag
	if version == "" && gitCommit != "" {
		version = gitCommit
	}

	cli.SetVersion(version, buildType)
	cli.Execute()
}
