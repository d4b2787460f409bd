/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apis

// Subscriber is a live websocket connection interested in push updates for a
// session or an owner. TTL lets the store expire records for connections
// that never said goodbye.
type Subscriber struct {
	ConnectionID string `json:"connection_id" dynamodbav:"connection_id"`
	SessionID    string `json:"session_id,omitempty" dynamodbav:"session_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty" dynamodbav:"owner_id,omitempty"`
	ConnectedAt  int64  `json:"connected_at" dynamodbav:"connected_at"`
	TTL          int64  `json:"ttl" dynamodbav:"ttl"`
}
