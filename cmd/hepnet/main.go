// Command hepnet trains and evaluates binary event classifiers on
// ROOT ntuples. See the train, eval, and predict subcommands.
package main

import "os"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
