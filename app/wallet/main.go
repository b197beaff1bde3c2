// Command wallet is a small cobra-based CLI for generating keys, checking
// balances, and sending signed transactions to a node's public API.
package main

import "github.com/proofchain/powchain/app/wallet/cmd"

func main() {
	cmd.Execute()
}
