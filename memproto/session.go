package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"memproto/client"
	"memproto/internal/cli/config"
)

var errNotConnected = errors.New("not connected. run: memproto connect <url> --email <email> --password <password>")

// session ties a client to the config file its tokens came from, so refreshed
// tokens are written back to the same place.
type session struct {
	cfgPath string
	srv     config.Server
	cl      *client.Client
	logger  *zap.Logger
}

func openSession(verbose bool) (*session, error) {
	cfgPath, err := config.Path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	srv, ok := cfg.Default()
	if !ok || srv.URL == "" {
		return nil, errNotConnected
	}
	logger := newLogger(verbose)
	return &session{
		cfgPath: cfgPath,
		srv:     srv,
		cl: client.New(srv.URL,
			client.WithLogger(logger),
			client.WithTokens(srv.AccessToken, srv.RefreshToken)),
		logger: logger,
	}, nil
}

// call runs fn and, when the server rejects the access token and a refresh token is
// held, refreshes once, saves the new pair and runs fn again.
func (s *session) call(ctx context.Context, fn func() error) error {
	err := fn()
	if !client.IsUnauthorized(err) {
		return err
	}
	if _, refresh := s.cl.Tokens(); refresh == "" {
		return err
	}
	s.logger.Debug("access token rejected, refreshing")
	if _, rerr := s.cl.RefreshAuth(ctx); rerr != nil {
		s.logger.Debug("refresh failed", zap.Error(rerr))
		return err
	}
	if perr := s.persist(); perr != nil {
		return perr
	}
	return fn()
}

// persist saves the client's tokens. A session pointed elsewhere by MEMPROTO_URL
// is left out of the file.
func (s *session) persist() error {
	access, refresh := s.cl.Tokens()
	saved, err := config.SaveTokens(s.cfgPath, s.srv.URL, access, refresh)
	if err != nil {
		return err
	}
	if !saved {
		s.logger.Debug("refreshed tokens not saved, session comes from the environment",
			zap.String("url", s.srv.URL))
	}
	return nil
}
