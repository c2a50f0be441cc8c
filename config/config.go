// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the dispatcher options from a YAML file with
// per-service and per-environment sections.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/cardinalhq/granulefilter/internal/action"
	"github.com/cardinalhq/granulefilter/internal/admission"
	"github.com/cardinalhq/granulefilter/internal/alert"
	"github.com/cardinalhq/granulefilter/internal/dispatch"
	"github.com/cardinalhq/granulefilter/internal/healthcheck"
	"github.com/cardinalhq/granulefilter/internal/transport"
)

// EnvPrefix prefixes environment variable overrides. The dot in a key is
// replaced by an underscore, so "transport.kafka.brokers" is read from
// GRANULEFILTER_TRANSPORT_KAFKA_BROKERS.
const EnvPrefix = "GRANULEFILTER"

// AreaConfigDirEnv names the directory holding the area definition file
// when admission.area_config_dir is not set.
const AreaConfigDirEnv = "PYTROLL_CONFIG_DIR"

var ErrUsage = errors.New("usage")

// Options are the validated settings of one service in one environment.
type Options struct {
	MessageTypes []string `mapstructure:"message_types"`

	SirLocalDir string `mapstructure:"sir_local_dir"`
	SirDir      string `mapstructure:"sir_dir"`
	Delete      bool   `mapstructure:"-"`
	DryRun      bool   `mapstructure:"-"`

	MailSender      string   `mapstructure:"mail_sender"`
	MailSubscribers []string `mapstructure:"mail_subscribers"`
	MailHost        string   `mapstructure:"mail_host"`
	MailSubject     string   `mapstructure:"mail_subject"`

	FileErrorPolicy string        `mapstructure:"file_error_policy"`
	DedupWindow     time.Duration `mapstructure:"dedup_window"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
	HealthPort      int           `mapstructure:"health_port"`

	// HeartbeatInterval spaces the "beat" events sent on the publish topic.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	Admission AdmissionOptions        `mapstructure:"admission"`
	Transport transport.Config        `mapstructure:"transport"`
	Publish   transport.PublishConfig `mapstructure:"publish"`
}

type AdmissionOptions struct {
	AreaConfigDir string        `mapstructure:"area_config_dir"`
	Areas         []string      `mapstructure:"areas"`
	TLEDir        string        `mapstructure:"tle_dir"`
	TLEMaxAge     time.Duration `mapstructure:"tle_max_age"`
	SampleStep    time.Duration `mapstructure:"sample_step"`
}

// Defaults returns the options used for keys the file leaves out.
func Defaults() Options {
	return Options{
		MailHost:          "localhost",
		MailSubject:       alert.DefaultSubject,
		FileErrorPolicy:   dispatch.PolicyFatal,
		StatsInterval:     time.Minute,
		HealthPort:        healthcheck.DefaultPort,
		HeartbeatInterval: 30 * time.Second,
		Admission: AdmissionOptions{
			TLEMaxAge:  admission.DefaultTLEMaxAge,
			SampleStep: admission.DefaultSampleStep,
		},
		Transport: transport.DefaultConfig(),
	}
}

// CheckArgs rejects command line arguments the service cannot start with.
func CheckArgs(path, service, env string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: config file must be given", ErrUsage)
	case service == "":
		return fmt.Errorf("%w: service name must be given", ErrUsage)
	case env == "":
		return fmt.Errorf("%w: environment must be given", ErrUsage)
	case strings.Contains(path, "template"):
		return fmt.Errorf("%w: template file given as master config, aborting", ErrUsage)
	}
	return nil
}

// Load reads path, takes the section named service and overlays its
// environment subsection. Environment variables override both.
func Load(path, service, env string) (*Options, error) {
	if err := CheckArgs(path, service, env); err != nil {
		return nil, err
	}

	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if !file.IsSet(service) {
		return nil, fmt.Errorf("service %q not found in %s", service, path)
	}
	settings := file.GetStringMap(service)
	if override, ok := settings[strings.ToLower(env)].(map[string]any); ok {
		settings = merge(settings, override)
	}

	opts := Defaults()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, opts)
	_ = v.BindEnv("delete")
	_ = v.BindEnv("dryrun")
	if err := v.MergeConfigMap(settings); err != nil {
		return nil, err
	}

	for _, key := range []string{"message_types", "mail_subscribers", "admission.areas"} {
		if s, ok := v.Get(key).(string); ok {
			v.Set(key, splitList(s))
		}
	}

	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var errs *multierror.Error
	var err error
	if opts.Delete, err = yesNo("delete", v.Get("delete")); err != nil {
		errs = multierror.Append(errs, err)
	}
	if opts.DryRun, err = yesNo("dryrun", v.Get("dryrun")); err != nil {
		errs = multierror.Append(errs, err)
	}
	if opts.Admission.AreaConfigDir == "" {
		opts.Admission.AreaConfigDir = os.Getenv(AreaConfigDirEnv)
		if opts.Admission.AreaConfigDir == "" {
			opts.Admission.AreaConfigDir = "./"
		}
	}
	if err := opts.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate reports every problem with the options at once.
func (o Options) Validate() error {
	var errs *multierror.Error
	if o.SirLocalDir != "" && o.SirDir == "" {
		errs = multierror.Append(errs, errors.New("sir_dir is required when sir_local_dir is set"))
	}
	switch o.FileErrorPolicy {
	case dispatch.PolicyFatal, dispatch.PolicyLog:
	default:
		errs = multierror.Append(errs, fmt.Errorf("file_error_policy must be %q or %q, got %q",
			dispatch.PolicyFatal, dispatch.PolicyLog, o.FileErrorPolicy))
	}
	if o.DedupWindow < 0 {
		errs = multierror.Append(errs, errors.New("dedup_window must not be negative"))
	}
	if o.StatsInterval < 0 {
		errs = multierror.Append(errs, errors.New("stats_interval must not be negative"))
	}
	if o.HeartbeatInterval < 0 {
		errs = multierror.Append(errs, errors.New("heartbeat_interval must not be negative"))
	}
	if o.HealthPort < 0 || o.HealthPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("health_port %d out of range", o.HealthPort))
	}
	if o.Admission.TLEDir == "" {
		errs = multierror.Append(errs, errors.New("admission.tle_dir is required"))
	}
	if len(o.MailSubscribers) > 0 && o.MailSender == "" {
		errs = multierror.Append(errs, errors.New("mail_sender is required when mail_subscribers is set"))
	}
	if err := o.Transport.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (o Options) ActionSettings() action.Settings {
	return action.Settings{
		SirLocalDir: o.SirLocalDir,
		SirDir:      o.SirDir,
		Delete:      o.Delete,
		DryRun:      o.DryRun,
	}
}

func (o Options) AdmissionConfig() admission.Config {
	return admission.Config{
		AreaFile:   admission.AreaFileIn(o.Admission.AreaConfigDir),
		Areas:      o.Admission.Areas,
		TLEDir:     o.Admission.TLEDir,
		TLEMaxAge:  o.Admission.TLEMaxAge,
		SampleStep: o.Admission.SampleStep,
	}
}

func (o Options) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		MessageTypes:    o.MessageTypes,
		FileErrorPolicy: o.FileErrorPolicy,
		DedupWindow:     o.DedupWindow,
		StatsInterval:   o.StatsInterval,
	}
}

func (o Options) AlertConfig() alert.Config {
	return alert.Config{
		Sender:      o.MailSender,
		Subscribers: o.MailSubscribers,
		Subject:     o.MailSubject,
	}
}

// yesNo accepts the yes/no strings used in the config files as well as
// booleans. A missing key is false.
func yesNo(key string, v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "true":
			return true, nil
		case "no", "false", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("%s must be yes or no, got %v", key, v)
}

// splitList splits a whitespace or comma separated list.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// merge returns base with override applied on top, descending into nested
// maps.
func merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := out[k].(map[string]any); ok {
				out[k] = merge(cur, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
