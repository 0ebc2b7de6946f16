// Command issuetoken prints an access token for a collector, signed with
// the server's secret key.
//
//	issuetoken -user <user-id> -branch <branch-id> [-s secret] [-t hours]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/loancollect/internal/flagx"
	"github.com/dmitrijs2005/loancollect/internal/server/auth"
	"github.com/dmitrijs2005/loancollect/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("issuetoken", flag.ContinueOnError)
	user := fs.String("user", "", "collector user id")
	branch := fs.String("branch", "", "branch id the token is limited to (empty: all)")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-user", "-branch"})); err != nil {
		log.Fatalf("%v", err)
	}
	if *user == "" {
		log.Fatal("-user is required")
	}

	tok, err := auth.GenerateToken(*user, *branch, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(tok)
}
