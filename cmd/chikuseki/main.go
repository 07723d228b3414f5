// Package main is the chikuseki CLI entry point.
package main

import "github.com/hyperjump/chikuseki/internal/cli"

var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}
