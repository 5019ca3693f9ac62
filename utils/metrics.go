package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TunnelsCreated counts created tunnels and links by kind (text, file, link).
	TunnelsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesso_created_total",
		Help: "Number of created text tunnels, file tunnels and short links.",
	}, []string{"kind"})

	// UploadedBytes counts bytes written to the object store.
	UploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accesso_uploaded_bytes_total",
		Help: "Bytes uploaded into file tunnels.",
	})

	// LinkClicks counts resolved short links.
	LinkClicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accesso_link_clicks_total",
		Help: "Number of short link redirects served.",
	})

	// SweepDeleted counts rows removed by the cleanup sweep by kind.
	SweepDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesso_sweep_deleted_total",
		Help: "Rows removed by the cleanup sweep.",
	}, []string{"kind"})

	// SweepRuns counts sweeps by outcome (ok, partial, skipped).
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesso_sweep_runs_total",
		Help: "Cleanup sweep executions by outcome.",
	}, []string{"outcome"})
)
