// Command llm-mux runs the multi-provider LLM API gateway.
package main

import "github.com/nghyane/llm-mux/internal/cli"

func main() {
	cli.Execute()
}
