package inspect

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/orizon-lang/mheap/internal/heap"
)

func genSelfSigned(t *testing.T) *tls.Config {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("x509 key pair: %v", err)
	}

	return &tls.Config{Certificates: []tls.Certificate{pair}, NextProtos: []string{"mheap-inspect"}}
}

func TestServerStreamsEventsToSubscriber(t *testing.T) {
	srv, err := New("127.0.0.1:0", genSelfSigned(t))
	if err != nil {
		t.Skip("quic not supported in this environment:", err)
	}
	defer srv.Close()

	conn, err := quic.DialAddr(context.Background(), srv.Addr(),
		&tls.Config{InsecureSkipVerify: true, NextProtos: []string{"mheap-inspect"}}, nil)
	if err != nil {
		t.Skip("quic dial failed:", err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.AcceptUniStream(context.Background())
	if err != nil {
		t.Fatalf("accept uni stream: %v", err)
	}

	// Give the server a moment to register the subscriber before publishing.
	time.Sleep(50 * time.Millisecond)

	srv.Publish(heap.Event{Kind: heap.EventCycleStart})

	scanner := bufio.NewScanner(stream)
	if !scanner.Scan() {
		t.Fatalf("expected a line, scan error: %v", scanner.Err())
	}

	var ev GCEvent
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	if ev.Kind != "cycle_start" {
		t.Errorf("expected kind cycle_start, got %q", ev.Kind)
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	srv, err := New("127.0.0.1:0", genSelfSigned(t))
	if err != nil {
		t.Skip("quic not supported in this environment:", err)
	}
	defer srv.Close()

	done := make(chan struct{})

	go func() {
		srv.Publish(heap.Event{Kind: heap.EventTriggerFired})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers connected")
	}
}
