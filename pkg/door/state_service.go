package door

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/gorilla/mux"
)

var (
	templateFuncMap = template.FuncMap{
		"abbreviate": func(s string) string {
			if len(s) > 11 {
				return s[:8] + "..."
			}
			return s
		},
		"format_state_id": layout.FormatStateID,
		"to_duration": func(large time.Time, small time.Time) string {
			return large.Sub(small).Truncate(time.Second).String()
		},
		"to_background_color": func(s string) string {
			return "#" + s[:6]
		},
		"to_foreground_color": func(s string) string {
			return "#" + invertColor(s[:2]) + invertColor(s[2:4]) + invertColor(s[4:6])
		},
		"to_state_color": func(state layout.SessionState) string {
			switch state {
			case layout.SessionStateActive:
				return "lightgreen"
			case layout.SessionStateRedirected:
				return "lightblue"
			case layout.SessionStateTimedOut:
				return "orange"
			default:
				return "white"
			}
		},
	}

	getDoorStateTemplate = template.Must(template.New("GetDoorState").Funcs(templateFuncMap).Parse(`
<!DOCTYPE html>
<html>
  <head>
    <title>Buildbarn pNFS door</title>
    <style>
      html { font-family: sans-serif; }
    </style>
  </head>
  <body>
    <h1>Buildbarn pNFS door</h1>
    <p>Known pools: <a href="pools">{{.PoolsCount}}</a><br/>
    Sessions: <a href="sessions">{{.SessionsCount}}</a></p>
  </body>
</html>
`))
	listPoolStateTemplate = template.Must(template.New("ListPoolState").Funcs(templateFuncMap).Parse(`
<!DOCTYPE html>
<html>
  <head>
    <title>Known pools</title>
    <style>
      html { font-family: sans-serif; }
      table { border-collapse: collapse; }
      table, td, th { border: 1px solid black; }
      td, th { padding-left: 5px; padding-right: 5px; }
    </style>
  </head>
  <body>
    <h1>Known pools</h1>
    <table>
      <thead>
        <tr>
          <th>Pool name</th>
          <th>Device ID</th>
          <th>Addresses</th>
        </tr>
      </thead>
      {{range .Endpoints}}
        <tr>
          <td>{{.PoolName}}</td>
          <td>{{.DeviceID}}</td>
          <td>{{range $i, $address := .Addresses}}{{if $i}}<br/>{{end}}{{$address}}{{end}}</td>
        </tr>
      {{end}}
    </table>
  </body>
</html>
`))
	listSessionStateTemplate = template.Must(template.New("ListSessionState").Funcs(templateFuncMap).Parse(`
<!DOCTYPE html>
<html>
  <head>
    <title>Sessions</title>
    <style>
      html { font-family: sans-serif; }
      table { border-collapse: collapse; }
      table, td, th { border: 1px solid black; }
      td, th { padding-left: 5px; padding-right: 5px; }
      .text-monospace { font-family: monospace; }
    </style>
  </head>
  <body>
    <h1>Sessions</h1>
    <table>
      <thead>
        <tr>
          <th>State ID</th>
          <th>Transfer ID</th>
          <th>File ID</th>
          <th>I/O mode</th>
          <th>Client</th>
          <th>Age</th>
          <th>State</th>
          <th>Mover</th>
          <th>Actions</th>
        </tr>
      </thead>
      {{$now := .Now}}
      {{range .Sessions}}
        {{$stateID := format_state_id .StateID}}
        {{$transferID := .TransferID.String}}
        <tr>
          <td class="text-monospace">{{$stateID}}</td>
          <td class="text-monospace" style="background-color: {{to_background_color $transferID}}; color: {{to_foreground_color $transferID}}">{{abbreviate $transferID}}</td>
          <td class="text-monospace">{{.File.FileID}}</td>
          <td>{{.IOMode}}{{if .Write}} (write pool){{end}}</td>
          <td>{{.ClientAddress}}</td>
          <td>{{to_duration $now .CreatedAt}}</td>
          <td style="background-color: {{to_state_color .State}}">{{.State}}</td>
          <td>{{if .HasMover}}{{.MoverID}}@{{.PoolName}}{{end}}</td>
          <td>
            <form action="release_session" method="post">
              <input name="state_id" type="hidden" value="{{$stateID}}"/>
              <input type="submit" value="Release"/>
            </form>
          </td>
        </tr>
      {{end}}
    </table>
  </body>
</html>
`))
)

// invertColor takes a single red, green or blue color value and
// transforms it to its high contrast counterpart.
func invertColor(s string) string {
	if r, _ := strconv.ParseInt(s, 16, 0); r < 128 {
		return "ff"
	}
	return "00"
}

// PoolState is the JSON representation of a known pool.
type PoolState struct {
	PoolName  string   `json:"poolName"`
	DeviceID  uint32   `json:"deviceId"`
	Addresses []string `json:"addresses"`
}

// SessionState is the JSON representation of a session.
type SessionState struct {
	StateID       string    `json:"stateId"`
	TransferID    string    `json:"transferId"`
	FileID        string    `json:"fileId"`
	IOMode        string    `json:"iomode"`
	Write         bool      `json:"write"`
	ClientAddress string    `json:"clientAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	State         string    `json:"state"`
	PoolName      string    `json:"poolName,omitempty"`
	MoverID       *int32    `json:"moverId,omitempty"`
}

type stateService struct {
	registry *layout.DeviceRegistry
	sessions *layout.SessionTable
	broker   layout.LayoutBroker
	clock    clock.Clock
}

// NewStateService registers HTTP handlers on a router that display the
// pools known to the door and the sessions that are in progress.
// Listings are returned as JSON if the "format=json" query parameter
// is provided. Sessions may be released manually, which causes their
// mover to be killed.
func NewStateService(registry *layout.DeviceRegistry, sessions *layout.SessionTable, broker layout.LayoutBroker, clock clock.Clock, router *mux.Router) {
	s := &stateService{
		registry: registry,
		sessions: sessions,
		broker:   broker,
		clock:    clock,
	}
	router.HandleFunc("/", s.handleGetDoorState)
	router.HandleFunc("/pools", s.handleListPoolState)
	router.HandleFunc("/sessions", s.handleListSessionState)
	router.HandleFunc("/release_session", s.handleReleaseSession).Methods(http.MethodPost)
}

func wantsJSON(req *http.Request) bool {
	return req.URL.Query().Get("format") == "json"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.Print(err)
	}
}

func (s *stateService) handleGetDoorState(w http.ResponseWriter, req *http.Request) {
	if err := getDoorStateTemplate.Execute(w, struct {
		PoolsCount    int
		SessionsCount int
	}{
		PoolsCount:    len(s.registry.Endpoints()),
		SessionsCount: s.sessions.Len(),
	}); err != nil {
		log.Print(err)
	}
}

func (s *stateService) handleListPoolState(w http.ResponseWriter, req *http.Request) {
	endpoints := s.registry.Endpoints()
	if wantsJSON(req) {
		pools := make([]PoolState, 0, len(endpoints))
		for _, endpoint := range endpoints {
			pool := PoolState{
				PoolName: endpoint.PoolName(),
				DeviceID: uint32(endpoint.DeviceID()),
			}
			for _, address := range endpoint.Addresses() {
				pool.Addresses = append(pool.Addresses, address.String())
			}
			pools = append(pools, pool)
		}
		writeJSON(w, pools)
		return
	}
	if err := listPoolStateTemplate.Execute(w, struct {
		Endpoints []*layout.PoolEndpoint
	}{
		Endpoints: endpoints,
	}); err != nil {
		log.Print(err)
	}
}

func (s *stateService) handleListSessionState(w http.ResponseWriter, req *http.Request) {
	sessions := s.sessions.Snapshot()
	if wantsJSON(req) {
		sessionStates := make([]SessionState, 0, len(sessions))
		for i := range sessions {
			session := &sessions[i]
			sessionState := SessionState{
				StateID:       layout.FormatStateID(session.StateID),
				TransferID:    session.TransferID.String(),
				FileID:        session.File.FileID,
				IOMode:        session.IOMode.String(),
				Write:         session.Write,
				ClientAddress: session.ClientAddress.String(),
				CreatedAt:     session.CreatedAt,
				State:         session.State.String(),
				PoolName:      session.PoolName(),
			}
			if session.HasMover() {
				moverID := int32(session.MoverID)
				sessionState.MoverID = &moverID
			}
			sessionStates = append(sessionStates, sessionState)
		}
		writeJSON(w, sessionStates)
		return
	}
	if err := listSessionStateTemplate.Execute(w, struct {
		Now      time.Time
		Sessions []layout.Session
	}{
		Now:      s.clock.Now(),
		Sessions: sessions,
	}); err != nil {
		log.Print(err)
	}
}

func (s *stateService) handleReleaseSession(w http.ResponseWriter, req *http.Request) {
	req.ParseForm()
	stateID, err := layout.ParseStateID(req.FormValue("state_id"))
	if err != nil {
		http.Error(w, util.StatusWrap(err, "Failed to extract state ID").Error(), http.StatusBadRequest)
		return
	}
	if err := s.broker.LayoutReturn(req.Context(), stateID); err != nil {
		http.Error(w, util.StatusWrap(err, "Failed to release session").Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, req, "sessions", http.StatusSeeOther)
}
