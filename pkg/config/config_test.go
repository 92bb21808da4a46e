package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/audisp_filter/pkg/classifier"
)

func TestParseArgs(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		want    *FilterConfig
		wantErr bool
	}{
		{
			name: "allowlist with consumer",
			args: []string{"audisp-filter", "allowlist", "/etc/audit/filter.conf", "/sbin/audisp-syslog"},
			want: &FilterConfig{
				Mode:       classifier.ModeAllowlist,
				ConfigFile: "/etc/audit/filter.conf",
				Binary:     "/sbin/audisp-syslog",
				BinaryArgs: []string{},
			},
		},
		{
			name: "blocklist with consumer args",
			args: []string{"audisp-filter", "blocklist", "/etc/audit/filter.conf", "/sbin/audisp-syslog", "LOG_INFO", "-d"},
			want: &FilterConfig{
				Mode:       classifier.ModeBlocklist,
				ConfigFile: "/etc/audit/filter.conf",
				Binary:     "/sbin/audisp-syslog",
				BinaryArgs: []string{"LOG_INFO", "-d"},
			},
		},
		{
			name: "mode is case insensitive",
			args: []string{"audisp-filter", "Blocklist", "/etc/audit/filter.conf", "/sbin/audisp-syslog"},
			want: &FilterConfig{
				Mode:       classifier.ModeBlocklist,
				ConfigFile: "/etc/audit/filter.conf",
				Binary:     "/sbin/audisp-syslog",
				BinaryArgs: []string{},
			},
		},
		{
			name: "check mode",
			args: []string{"audisp-filter", "--check", "/etc/audit/filter.conf"},
			want: &FilterConfig{
				ConfigFile: "/etc/audit/filter.conf",
				OnlyCheck:  true,
			},
		},
		{
			name:    "no arguments",
			args:    []string{"audisp-filter"},
			wantErr: true,
		},
		{
			name:    "missing consumer binary",
			args:    []string{"audisp-filter", "allowlist", "/etc/audit/filter.conf"},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			args:    []string{"audisp-filter", "denylist", "/etc/audit/filter.conf", "/sbin/audisp-syslog"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseArgs(tc.args)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Mode, got.Mode)
			assert.Equal(t, tc.want.ConfigFile, got.ConfigFile)
			assert.Equal(t, tc.want.Binary, got.Binary)
			assert.Equal(t, tc.want.OnlyCheck, got.OnlyCheck)
			if len(tc.want.BinaryArgs) > 0 {
				assert.Equal(t, tc.want.BinaryArgs, got.BinaryArgs)
			} else {
				assert.Empty(t, got.BinaryArgs)
			}
		})
	}
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsOverrides(t *testing.T) {
	content := `
log:
  level: DEBUG
api:
  enabled: true
  host: 0.0.0.0
  port: "9100"
source:
  buffer_size: 64
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", s.Log.Level)
	assert.True(t, s.API.Enabled)
	assert.Equal(t, "0.0.0.0", s.API.Host)
	assert.Equal(t, "9100", s.API.Port)
	assert.Equal(t, 64, s.Source.BufferSize)

	// Untouched fields keep their defaults.
	assert.Equal(t, "/var/log/audisp-filter", s.Log.Dir)
	assert.Equal(t, 1024, s.Rules.MaxLineLen)
}

func TestLoadSettingsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [not a mapping"), 0644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestLoadSettingsInvalidValues(t *testing.T) {
	content := `
source:
  buffer_size: -1
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestSettingsPath(t *testing.T) {
	t.Setenv(SettingsEnv, "")
	assert.Equal(t, DefaultSettingsPath, SettingsPath())

	t.Setenv(SettingsEnv, "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", SettingsPath())
}
