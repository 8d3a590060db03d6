// gettoken is a "before" process hook: it logs into the shop API with the
// DATA_EMAIL/DATA_PASSWORD vars (or SHOP_EMAIL/SHOP_PASSWORD env) and patches
// the request with the resulting bearer token.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

type In struct {
	Vars map[string]string `json:"vars"`
}
type Out struct {
	Vars    map[string]string `json:"vars,omitempty"`
	Request *struct {
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"request,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func main() {
	var in In
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}

	base := pick(in.Vars["BASE_URL"], os.Getenv("SHOP_BASE_URL"), "http://localhost:8081")
	email := pick(in.Vars["data.email"], os.Getenv("SHOP_EMAIL"))
	password := pick(in.Vars["data.password"], os.Getenv("SHOP_PASSWORD"))

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(base+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		emit(Out{Errors: []string{fmt.Sprintf("login: %v", err)}})
		return
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || out.Token == "" {
		emit(Out{Errors: []string{fmt.Sprintf("login failed: status %d", resp.StatusCode)}})
		return
	}

	emit(Out{
		Vars: map[string]string{"TOKEN": out.Token},
		Request: &struct {
			Headers map[string]string `json:"headers,omitempty"`
		}{
			Headers: map[string]string{"Authorization": "Bearer " + out.Token},
		},
	})
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func emit(o Out) { _ = json.NewEncoder(os.Stdout).Encode(o) }
