// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks conversation activity and ends idle conversations.
//
// Each Touch records the last time a conversation saw a message. A periodic
// sweep expires conversations idle past the timeout, invoking a callback
// that marks them ended in storage. The tracker holds only timestamps;
// conversation state itself lives in the storage package.
package session
