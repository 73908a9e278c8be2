package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"roadsafety/internal/config"
	"roadsafety/internal/logger"
	"roadsafety/internal/service/camera"
)

// camprobe prints the camera indices that can be opened, as the server's
// /list_cameras would.
func main() {
	cfg := config.Load()
	bound := flag.Int("max", cfg.MaxCameraProbe, "number of device indices to probe")
	flag.Parse()

	if *bound < 0 {
		log.Fatalf("-max must not be negative: %d", *bound)
	}

	cameras := camera.NewEnumerator(*bound, nil, nil, logger.New(os.Stderr)).List()

	if err := json.NewEncoder(os.Stdout).Encode(cameras); err != nil {
		log.Fatalf("Failed to write camera list: %v", err)
	}
}
