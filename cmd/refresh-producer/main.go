package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tournament-registry/internal/kafka"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "refresh-requests", "Kafka topic")
	requestedBy := flag.String("by", "", "Requester recorded on the message (defaults to $USER)")
	reason := flag.String("reason", "", "Free-form reason recorded on the message")
	every := flag.Duration("every", 0, "Publish repeatedly at this interval (0 = once)")
	flag.Parse()

	who := *requestedBy
	if who == "" {
		who = os.Getenv("USER")
	}

	producer, err := kafka.NewProducer(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	publish := func() {
		partition, offset, err := producer.Publish(kafka.RefreshRequest{RequestedBy: who, Reason: *reason})
		if err != nil {
			log.Printf("Publish failed: %v", err)
			return
		}
		fmt.Printf("[%s] refresh requested (partition %d, offset %d)\n", time.Now().Format("15:04:05"), partition, offset)
	}

	publish()
	if *every <= 0 {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println("Shutting down...")
			return
		case <-ticker.C:
			publish()
		}
	}
}
