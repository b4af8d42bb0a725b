package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "census mirror url",
			url:      "ftp://ftp2.census.gov/geo/tiger/TIGER2023/BG/tl_2023_01_bg.zip",
			wantHost: "ftp2.census.gov:21",
			wantPath: "/geo/tiger/TIGER2023/BG/tl_2023_01_bg.zip",
		},
		{
			name:     "explicit port preserved",
			url:      "ftp://ftp.example.com:2121/data/file.zip",
			wantHost: "ftp.example.com:2121",
			wantPath: "/data/file.zip",
		},
		{
			name:    "https scheme rejected",
			url:     "https://www2.census.gov/geo/tiger/TIGER2023/BG/tl_2023_01_bg.zip",
			wantErr: true,
		},
		{
			name:    "empty path",
			url:     "ftp://ftp2.census.gov",
			wantErr: true,
		},
		{
			name:    "invalid url",
			url:     "://bad",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestNewFTPFetcher_DefaultTimeout(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, 60*time.Second, f.opts.Timeout)

	f = NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, f.opts.Timeout)
}
