// Copyright 2015 Matthew Holt and The Caddy Authors
//
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

// Package nbtls provides the shared primitives that the crypto and pool
// subpackages are built on: a borrowed-socket contract, a reactor interface
// for I/O readiness and timers, and a single-assignment Promise/Deferred
// pair. The crypto subpackage layers crypto/tls over these sockets, and the
// pool subpackage's DefaultDialer opens them with net.Dialer.
package nbtls
