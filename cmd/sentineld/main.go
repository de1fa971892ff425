// Command sentineld runs the LLM-judged reverse-proxy WAF.
package main

import (
	"github.com/ppiankov/sentineld/internal/cli"
)

func main() {
	cli.Execute()
}
