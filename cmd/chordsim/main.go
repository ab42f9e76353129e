// Command chordsim drives a fixed demo sequence against the in-process
// Chord ring simulator and prints the resulting ring summary as JSON. It
// is a non-interactive smoke driver, not an interactive shell.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"chordsim/internal/config"
	"chordsim/internal/registry"
)

func main() {
	mFlag := flag.Int("m", 0, "bit-width of the identifier space (overrides CHORDSIM_M)")
	seedFlag := flag.String("seed", "", "comma-separated bootstrap IPs (overrides CHORDSIM_SEED)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	m := cfg.M
	if *mFlag != 0 {
		m = *mFlag
	}
	seed := cfg.Seed
	if *seedFlag != "" {
		seed = *seedFlag
	}

	ips := parseSeed(seed)
	if len(ips) == 0 {
		ips = []string{
			"192.168.1.125",
			"192.168.1.63",
			"192.168.1.15",
			"192.168.1.107",
			"192.168.1.33",
		}
	}

	ring := registry.New(m, log)
	for _, ip := range ips {
		if _, err := ring.Join(ip); err != nil {
			log.Fatalf("failed to join %s: %v", ip, err)
		}
	}

	resources := []string{"file1.txt", "doc.docx", "img.jpg", "data.json", "cfg.xml"}
	for _, name := range resources {
		if _, err := ring.Put(name); err != nil {
			log.Fatalf("failed to put %q: %v", name, err)
		}
	}

	for _, name := range resources {
		owner, ok := ring.Lookup(name)
		if !ok {
			log.Warnf("lookup %q: not found", name)
			continue
		}
		log.WithFields(logrus.Fields{"resource": name, "owner": owner}).Info("resource located")
	}

	summary, err := json.MarshalIndent(ring.Summary(), "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal ring summary: %v", err)
	}
	fmt.Println(string(summary))
}

func parseSeed(seed string) []string {
	if seed == "" {
		return nil
	}
	var ips []string
	for _, ip := range strings.Split(seed, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}
