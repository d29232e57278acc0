package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// Status /status 的响应
type Status struct {
	LastState   string `json:"lastState"`
	RunsStarted int64  `json:"runsStarted"`
	RunsSettled int64  `json:"runsSettled"`
	RunsFailed  int64  `json:"runsFailed"`
	TxSubmitted int64  `json:"txSubmitted"`
	TxReverted  int64  `json:"txReverted"`
}

// Snapshot 当前计数快照
func Snapshot() Status {
	return Status{
		LastState:   LastState.Value(),
		RunsStarted: RunsStarted.Value(),
		RunsSettled: RunsSettled.Value(),
		RunsFailed:  RunsFailed.Value(),
		TxSubmitted: TxSubmitted.Value(),
		TxReverted:  TxReverted.Value(),
	}
}

// Handler 调试端点：
// - status: /status
// - expvar: /debug/vars
// - pprof:  /debug/pprof
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Snapshot())
	})
	mux.Handle("/debug/vars", expvar.Handler())

	// 显式注册到自己的 mux，避免依赖 DefaultServeMux 的全局副作用
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartAsync 非阻塞启动调试服务，ctx.Done() 时关闭
// 建议只监听 localhost
func StartAsync(ctx context.Context, listenAddr string, onError func(error)) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}
