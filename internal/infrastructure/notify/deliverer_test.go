package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	dn "infodigest/internal/domain/notification"
)

type fakeDevices struct {
	tokens []string
	err    error
}

func (f fakeDevices) DeviceTokens(context.Context, string) ([]string, error) {
	return f.tokens, f.err
}

type fakeLogs struct {
	entries []DeliveryLog
	err     error
}

func (f *fakeLogs) InsertPushLog(_ context.Context, entry DeliveryLog) error {
	f.entries = append(f.entries, entry)
	return f.err
}

func testNotification() dn.Notification {
	return dn.Notification{
		ID: "n1", UserID: "u1", Type: dn.TypeStrategyTrigger,
		Title: "策略觸發", Message: "價格突破 $900", Priority: 80,
	}
}

func TestPushDeliverer_Disabled(t *testing.T) {
	d := NewPushDeliverer(nil, fakeDevices{}, nil, false)
	if err := d.Deliver(context.Background(), testNotification()); err != nil {
		t.Fatalf("disabled deliverer should succeed silently: %v", err)
	}
}

func TestPushDeliverer_FanOut(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	logs := &fakeLogs{}
	client := NewPushClient(ts.URL, "tok", "app", time.Second)
	d := NewPushDeliverer(client, fakeDevices{tokens: []string{"d1", "d2"}}, logs, true)

	if err := d.Deliver(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("pushed to %d devices, want 2", got)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected one delivery log, got %d", len(logs.entries))
	}
	if logs.entries[0].Succeeded != 2 || logs.entries[0].Devices != 2 {
		t.Errorf("log entry = %+v", logs.entries[0])
	}
}

func TestPushDeliverer_PartialFailureStillDelivers(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 第一台裝置失敗，第二台成功。
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewPushClient(ts.URL, "tok", "app", time.Second)
	d := NewPushDeliverer(client, fakeDevices{tokens: []string{"d1", "d2"}}, nil, true)

	if err := d.Deliver(context.Background(), testNotification()); err != nil {
		t.Fatalf("one successful device should count as delivered: %v", err)
	}
}

func TestPushDeliverer_AllDevicesFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	logs := &fakeLogs{}
	client := NewPushClient(ts.URL, "tok", "app", time.Second)
	d := NewPushDeliverer(client, fakeDevices{tokens: []string{"d1"}}, logs, true)

	if err := d.Deliver(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error when every device fails")
	}
	if len(logs.entries) != 1 || logs.entries[0].Error == "" {
		t.Errorf("failure should be logged with an error message: %+v", logs.entries)
	}
}

func TestPushDeliverer_NoDevices(t *testing.T) {
	d := NewPushDeliverer(nil, fakeDevices{}, nil, true)
	if err := d.Deliver(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for user without devices")
	}
}

func TestPushDeliverer_DeviceLookupError(t *testing.T) {
	d := NewPushDeliverer(nil, fakeDevices{err: errors.New("db down")}, nil, true)
	if err := d.Deliver(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error when device lookup fails")
	}
}

func TestPushDeliverer_LogFailureIgnored(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	logs := &fakeLogs{err: errors.New("insert failed")}
	client := NewPushClient(ts.URL, "tok", "app", time.Second)
	d := NewPushDeliverer(client, fakeDevices{tokens: []string{"d1"}}, logs, true)

	if err := d.Deliver(context.Background(), testNotification()); err != nil {
		t.Fatalf("log write failure must not fail delivery: %v", err)
	}
}
