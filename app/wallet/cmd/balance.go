package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// accountInfo mirrors the shape of a single entry in the node's
// /v1/accounts/list response.
type accountInfo struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance *big.Int           `json:"balance"`
	Nonce   *big.Int           `json:"nonce"`
}

type accountsResponse struct {
	LastestBlock string        `json:"lastest_block"`
	Uncommitted  int           `json:"uncommitted"`
	Accounts     []accountInfo `json:"accounts"`
}

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}
		account := database.PublicKeyToAccountID(privateKey.PublicKey)
		fmt.Println("For Account:", account)

		resp, err := http.Get(fmt.Sprintf("%s/v1/accounts/list/%s", url, account))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		var accts accountsResponse
		if err := json.NewDecoder(resp.Body).Decode(&accts); err != nil {
			log.Fatal(err)
		}

		if len(accts.Accounts) == 0 {
			fmt.Println(0)
			return
		}
		fmt.Println(accts.Accounts[0].Balance)
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}
