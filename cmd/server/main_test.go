package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/repository"
)

type recordingTracker struct {
	order *[]string
}

func (r recordingTracker) stop() { *r.order = append(*r.order, "tracker") }

func TestShutdownLetsInFlightAppendLand(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	store, err := repository.OpenChargeLog("5YJSA1E26FF000001", t.TempDir(), logger)
	require.NoError(t, err)

	started := make(chan struct{})
	cycle := models.ChargeCycle{StartTime: 1414000000000, EndTime: 1414003600000, EnergyAdded: 9}
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		store.Append(cycle)
		w.WriteHeader(http.StatusCreated)
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(ln)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/charges", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-started

	var order []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdown(ctx, logger, server, recordingTracker{order: &order}, store, func() {
		order = append(order, "mail")
	})

	assert.Equal(t, http.StatusCreated, <-done)
	assert.Equal(t, []string{"tracker", "mail"}, order)
	assert.Equal(t, []models.ChargeCycle{cycle}, store.Load(nil))
	assert.Zero(t, logs.FilterMessage("Dropped charge cycle, log already closed").Len())
	assert.ErrorIs(t, store.Close(), repository.ErrChargeLogClosed)
}
