// Command client is a manual CLI collaborator for driving a matchbook
// server over its wire protocol.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"matchbook/internal/domain"
	"matchbook/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	owner := flag.String("owner", "", "owner username (compulsory)")
	action := flag.String("action", "place", "action to perform: [place, cancel, log]")

	symbol := flag.String("symbol", "AAPL", "instrument symbol")
	sideStr := flag.String("side", "buy", "order side: buy or sell")
	typeStr := flag.String("type", "limit", "order type: limit or market")
	price := flag.Float64("price", 100.0, "limit price (ignored for market orders)")
	qtyStr := flag.String("qty", "10", "quantity or comma-separated list, e.g. 10,20,50")

	orderID := flag.String("id", "", "order id to cancel")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as %q\n", *serverAddr, *owner)

	go readReports(conn)

	side := domain.Buy
	if strings.EqualFold(*sideStr, "sell") {
		side = domain.Sell
	}
	kind := domain.Limit
	if strings.EqualFold(*typeStr, "market") {
		kind = domain.Market
	}

	switch strings.ToLower(*action) {
	case "place":
		for _, qty := range parseQuantities(*qtyStr) {
			frame := wire.NewOrderFrame{
				Kind:   kind,
				Side:   side,
				Symbol: *symbol,
				Price:  domain.FromFloat(*price),
				Size:   qty,
				Owner:  *owner,
			}
			if _, err := conn.Write(wire.EncodeNewOrder(frame)); err != nil {
				log.Printf("failed to place order (qty %d): %v", qty, err)
				continue
			}
			fmt.Printf("-> sent %s %s order: %s qty=%d price=%.4f\n", strings.ToUpper(*sideStr), strings.ToUpper(*typeStr), *symbol, qty, *price)
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -id is required for cancellation")
		}
		if _, err := conn.Write(wire.EncodeCancelOrder(wire.CancelOrderFrame{OrderID: *orderID})); err != nil {
			log.Printf("failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> sent cancel request for order %s\n", *orderID)
		}

	case "log":
		if _, err := conn.Write(wire.EncodeLogBook()); err != nil {
			log.Printf("failed to send log request: %v", err)
		} else {
			fmt.Println("-> sent log request")
		}

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nListening for reports... (Ctrl+C to exit)")
	select {}
}

// parseQuantities splits a comma-separated string into a slice of uint64.
func parseQuantities(input string) []uint64 {
	var out []uint64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		val, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			log.Printf("warning: invalid quantity %q, skipping", p)
			continue
		}
		out = append(out, val)
	}
	return out
}

// readReports continuously reads and prints Report frames from the
// server.
func readReports(conn net.Conn) {
	header := make([]byte, wire.ReportFixedHeaderLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}

		varLen, err := wire.ReportByteLen(header)
		if err != nil {
			log.Printf("malformed report header: %v", err)
			os.Exit(0)
		}

		body := make([]byte, varLen)
		if varLen > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				log.Printf("error reading report body: %v", err)
				os.Exit(0)
			}
		}

		report, err := wire.DecodeReport(append(append([]byte{}, header...), body...))
		if err != nil {
			log.Printf("error decoding report: %v", err)
			continue
		}

		if report.MessageType == wire.ErrorReport {
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
			continue
		}
		fmt.Printf("\n[EXECUTION] %s | order=%s | qty=%d | price=%.4f | vs=%s\n",
			report.Side, report.OrderID, report.Size, report.Price.Float(), report.Counterparty)
	}
}
