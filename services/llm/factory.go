// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"log/slog"

	"github.com/AleutianAI/Pulse/pkg/config"
)

// ConfiguredClients returns the provider clients whose API key is present,
// primary first. An empty result means every caller goes straight to the
// local heuristics.
func ConfiguredClients(cfg config.Config, logger *slog.Logger) []LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	var clients []LLMClient

	if cfg.Primary.Configured() {
		client, err := NewOpenAIClient(clientConfig(cfg.Primary, cfg.Provider), logger)
		if err != nil {
			logger.Error("primary provider disabled", "provider", cfg.Primary.Name, "error", err)
		} else {
			clients = append(clients, client)
		}
	} else {
		logger.Info("primary provider not configured", "provider", cfg.Primary.Name, "key_present", false)
	}

	if cfg.Secondary.Configured() {
		client, err := NewCompatClient(clientConfig(cfg.Secondary, cfg.Provider), logger)
		if err != nil {
			logger.Error("secondary provider disabled", "provider", cfg.Secondary.Name, "error", err)
		} else {
			clients = append(clients, client)
		}
	} else {
		logger.Info("secondary provider not configured", "provider", cfg.Secondary.Name, "key_present", false)
	}

	return clients
}

func clientConfig(p config.ProviderConfig, tuning config.ProviderTuning) ClientConfig {
	return ClientConfig{
		Name:              p.Name,
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Model:             p.Model,
		Timeout:           tuning.Timeout,
		RequestsPerSecond: tuning.RequestsPerSecond,
	}
}
