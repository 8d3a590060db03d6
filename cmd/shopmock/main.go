// shopmock is a tiny in-memory demo shop API for local suite runs:
// register/login, a product list, per-token carts, and checkout.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

type product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

var catalog = []product{
	{ID: "p-1", Name: "Mechanical Keyboard", Price: 89.90},
	{ID: "p-2", Name: "USB-C Hub", Price: 34.50},
	{ID: "p-3", Name: "Laptop Stand", Price: 27.00},
}

type server struct {
	mu       sync.Mutex
	users    map[string]string   // email -> password
	carts    map[string][]string // token -> product ids
	orderSeq atomic.Int64
}

func newServer() *server {
	return &server{users: map[string]string{}, carts: map[string][]string{}}
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "email and password required"})
		return
	}
	s.mu.Lock()
	_, exists := s.users[in.Email]
	if !exists {
		s.users[in.Email] = in.Password
	}
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already registered"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"email": in.Email, "name": in.Name})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	s.mu.Lock()
	pw, ok := s.users[in.Email]
	s.mu.Unlock()
	if !ok || pw != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": "tok-" + in.Email})
}

func (s *server) products(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": catalog})
}

func (s *server) cart(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing token"})
		return
	}
	switch r.Method {
	case http.MethodPost:
		var in struct {
			ProductID string `json:"product_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if !knownProduct(in.ProductID) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown product"})
			return
		}
		s.mu.Lock()
		s.carts[token] = append(s.carts[token], in.ProductID)
		n := len(s.carts[token])
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": n})
	case http.MethodGet:
		s.mu.Lock()
		items := append([]string(nil), s.carts[token]...)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		http.NotFound(w, r)
	}
}

func (s *server) checkout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing token"})
		return
	}
	s.mu.Lock()
	items := s.carts[token]
	delete(s.carts, token)
	s.mu.Unlock()
	if len(items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "cart is empty"})
		return
	}
	id := s.orderSeq.Add(1)
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": fmt.Sprintf("o-%d", id),
		"items":    len(items),
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func knownProduct(id string) bool {
	for _, p := range catalog {
		if p.ID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	s := newServer()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("GET /products", s.products)
	mux.HandleFunc("/cart", s.cart)
	mux.HandleFunc("POST /checkout", s.checkout)

	addr := ":8081"
	log.Printf("shopmock listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
