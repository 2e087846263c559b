package main

import "github.com/feichai0017/knowledge-pipeline/internal/cli"

func main() {
	cli.Execute()
}
