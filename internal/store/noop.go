package store

import "context"

// Noop is the store used when no database is configured. Writes succeed
// silently and reads that need data report ErrUnavailable.
type Noop struct{}

func (Noop) Enabled() bool { return false }

func (Noop) TouchUser(context.Context, string, string) error { return nil }

func (Noop) LogDownload(context.Context, Download) error { return nil }

func (Noop) Stats(context.Context) (Stats, error) { return Stats{}, ErrUnavailable }

func (Noop) History(context.Context, string, int) ([]Download, error) { return nil, nil }

func (Noop) UserPhones(context.Context) ([]string, error) { return nil, ErrUnavailable }

func (Noop) IsBlacklisted(context.Context, string) (bool, error) { return false, nil }

func (Noop) AddToBlacklist(context.Context, string, string) error { return nil }

func (Noop) RemoveFromBlacklist(context.Context, string) error { return nil }

func (Noop) Close() error { return nil }
