// Backend is a simple mock collaborative application server used for
// balancer testing. It provides a /health endpoint and a catch-all that
// reports which instance served the request and which document it carried.
//
// Usage:
//
//	go run backend.go -port 8081 -name node-a
//
// Run a few of these on different ports and point the balancer's backends
// list at them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
)

// Reply describes which instance handled a request.
type Reply struct {
	Instance   string `json:"instance"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "", "instance name reported in responses")
	flag.Parse()

	instance := *name
	if instance == "" {
		instance = fmt.Sprintf("backend-%d", *port)
	}

	mux := http.NewServeMux()

	// health endpoint probed by the balancer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		docID := r.URL.Query().Get("document_id")
		log.Printf("request: method=%s path=%s from=%s document_id=%q",
			r.Method, r.URL.Path, r.RemoteAddr, docID)

		reply := Reply{
			Instance:   instance,
			Method:     r.Method,
			Path:       r.URL.Path,
			DocumentID: docID,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %s on %s", instance, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
