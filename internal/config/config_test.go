package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coralcrave-auction-service/internal/domain/increment"
)

func TestParseLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    string
		want    []increment.Tier
		wantErr bool
	}{
		{
			name: "default",
			spec: "20:1,100:2,500:5,*:10",
			want: increment.DefaultLadder().Tiers,
		},
		{
			name: "spaces",
			spec: " 10 : 0.5 , * : 1 ",
			want: []increment.Tier{{LessThan: 10, Increment: 0.5}, {Increment: 1}},
		},
		{name: "missing_colon", spec: "20-1", wantErr: true},
		{name: "bad_number", spec: "abc:1", wantErr: true},
		{name: "unsorted", spec: "100:1,20:2", wantErr: true},
		{name: "empty", spec: "", wantErr: true},
		{name: "sub_cent_increment", spec: "*:0.004", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ladder, err := ParseLadder("x", tc.spec)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, ladder.Tiers)
		})
	}
}

func TestAuctionConfig_Registry(t *testing.T) {
	t.Parallel()

	cfg := AuctionConfig{
		IncrementLadder:  defaultIncrementLadderSpec,
		IncrementSchemes: "coins=*:0.25; bulk=100:5,*:25",
	}
	registry, err := cfg.Registry()
	require.NoError(t, err)
	require.Equal(t, 20.0, registry.Default().MinimumBid(19))
	require.Equal(t, 10.25, registry.Lookup("coins").MinimumBid(10))
	require.Equal(t, 225.0, registry.Lookup("bulk").MinimumBid(200))

	_, err = AuctionConfig{IncrementSchemes: "broken"}.Registry()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{Driver: DriverMemory},
			Auth:     AuthConfig{JWTSecret: "secret"},
			Auction: AuctionConfig{
				DefaultDuration:   time.Minute,
				SpeedDuration:     15 * time.Second,
				MaxCommitAttempts: 5,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no_port", mutate: func(c *Config) { c.Server.Port = "" }},
		{name: "unknown_driver", mutate: func(c *Config) { c.Database.Driver = "mongo" }},
		{name: "postgres_without_url", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }},
		{name: "redis_without_addr", mutate: func(c *Config) { c.Redis.Enabled = true }},
		{name: "nats_without_url", mutate: func(c *Config) { c.NATS.Enabled = true }},
		{name: "no_secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }},
		{name: "no_attempts", mutate: func(c *Config) { c.Auction.MaxCommitAttempts = 0 }},
		{name: "bad_ladder", mutate: func(c *Config) { c.Auction.IncrementLadder = "1:0" }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
