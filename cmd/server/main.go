// Package main 是应用程序的入口点。
package main

import "ai-tutor-go/internal/cli"

func main() {
	cli.Execute()
}
