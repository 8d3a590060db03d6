// genid is a process hook that injects a fresh 9-digit SKU_ID var, handy for
// creating unique products or order references per run.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

type Out struct {
	Vars map[string]string `json:"vars,omitempty"`
}

func main() {
	id := 100000000 + rand.Intn(900000000) // 9-digit
	_ = json.NewEncoder(os.Stdout).Encode(Out{
		Vars: map[string]string{"SKU_ID": fmt.Sprintf("%d", id)},
	})
}
