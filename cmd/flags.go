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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/granulefilter/config"
)

// configFlags are the flags every command that reads the config file takes.
type configFlags struct {
	file        string
	service     string
	environment string
}

func (f *configFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "config_file", "c", "", "The file containing configuration parameters e.g. product_filter_config.yaml")
	cmd.Flags().StringVarP(&f.service, "service", "s", "", "Name of the service (e.g. iasi-lvl2)")
	cmd.Flags().StringVarP(&f.environment, "environment", "e", "", "The processing environment (utv/test/prod)")
}

// load validates the flags and reads the options. Usage problems are returned
// before anything else is touched; after that, errors no longer print usage.
func (f *configFlags) load(cmd *cobra.Command) (*config.Options, error) {
	if err := config.CheckArgs(f.file, f.service, f.environment); err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true

	opts, err := config.Load(f.file, f.service, f.environment)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return opts, nil
}
