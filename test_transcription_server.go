package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"
)

// Mock whisper-compatible endpoint for local development. Small uploads get
// an empty transcription so the accumulation retry path can be exercised
// end to end without a real API key.

type TranscriptionResponse struct {
	Text string `json:"text"`
}

var (
	port       = flag.String("port", ":9000", "listen address")
	emptyBelow = flag.Int("empty-below", 8000, "uploads smaller than this many bytes get an empty transcription")
	delay      = flag.Duration("delay", 200*time.Millisecond, "simulated processing time")
)

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	err := r.ParseMultipartForm(32 << 20) // 32 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	model := r.FormValue("model")
	language := r.FormValue("language")
	responseFormat := r.FormValue("response_format")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 TRANSCRIPTION REQUEST RECEIVED:")
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    Audio Size: %d bytes", len(audioData))
	log.Printf("    Content-Type: %s", header.Header.Get("Content-Type"))
	log.Printf("    Model: %s", model)
	log.Printf("    Language: %s", language)
	log.Printf("    Response Format: %s", responseFormat)

	// Simulate processing time
	time.Sleep(*delay)

	response := TranscriptionResponse{}
	if len(audioData) >= *emptyBelow {
		response.Text = "this is a test transcription of the accumulated audio"
	}

	// Send JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	if response.Text == "" {
		log.Printf("🤫 EMPTY TRANSCRIPTION SENT (upload below %d bytes)", *emptyBelow)
	} else {
		log.Printf("✅ TRANSCRIPTION RESPONSE SENT: '%s'", response.Text)
	}
	log.Println("---")
}

func main() {
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/v1/audio/transcriptions", transcribeHandler)

	log.Printf("🚀 Test Transcription Server starting on port %s", *port)
	log.Printf("📡 Endpoint: http://localhost%s/transcribe", *port)
	log.Println("💡 Update your config to use: http://localhost:9000/transcribe")

	if err := http.ListenAndServe(*port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
