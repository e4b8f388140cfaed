// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for control plane components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (controlplane, provisioner, etc.)
  - Instance ID and container name (for distributed tracing)
  - User ID (for multi-tenant isolation)
  - Deployment ID (for deployment-attempt correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("controlplane")

Log messages with user and deployment context:

	log.Info("user-123", "dep-456", "Staging deployment bundle", map[string]interface{}{
	    "bucket": "agent-deployments-user-123",
	    "tier":   "personal",
	})

Log errors with status codes:

	log.ErrorWithCode("user-123", "dep-456", "Provisioning failed", 502, err, map[string]interface{}{
	    "step": "create_repository",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("user-123", "dep-456", "Deployment staged",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"controlplane","instance_id":"i-abc123","container":"cp-xyz",
	 "user_id":"user-123","deployment_id":"dep-456",
	 "message":"Staging deployment bundle","fields":{"tier":"personal"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
