package match

import "sort"

// Line is one participant on the scoreboard.
type Line struct {
	Name   string `json:"name"`
	Kills  int    `json:"kills"`
	Deaths int    `json:"deaths"`
	Player bool   `json:"player,omitempty"`
}

// Scoreboard is the on-demand stats snapshot.
type Scoreboard struct {
	Player Line   `json:"player"`
	Bots   []Line `json:"bots"`
}

// PlayerName labels the human on ranked boards.
const PlayerName = "You"

// Ranked merges the player and bots sorted by kills, highest first. Ties
// keep the player ahead of bots and bots in roster order.
func (s Scoreboard) Ranked() []Line {
	lines := make([]Line, 0, len(s.Bots)+1)
	player := s.Player
	player.Player = true
	if player.Name == "" {
		player.Name = PlayerName
	}
	lines = append(lines, player)
	lines = append(lines, s.Bots...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Kills > lines[j].Kills })
	return lines
}

// Tally is the player's kill and death count.
type Tally struct {
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
}

// Board is the scoreboard as clients receive it: the player apart, bots in
// roster order, plus the merged ranking for display.
type Board struct {
	Player Tally  `json:"player"`
	Bots   []Line `json:"bots"`
	Ranked []Line `json:"ranked,omitempty"`
}

// Board splits the scoreboard into its wire shape.
func (s Scoreboard) Board() Board {
	bots := make([]Line, len(s.Bots))
	for i, bot := range s.Bots {
		bots[i] = Line{Name: bot.Name, Kills: bot.Kills, Deaths: bot.Deaths}
	}
	return Board{
		Player: Tally{Kills: s.Player.Kills, Deaths: s.Player.Deaths},
		Bots:   bots,
		Ranked: s.Ranked(),
	}
}

// Summary is reported once when the match ends.
type Summary struct {
	Kills              int `json:"kills"`
	Deaths             int `json:"deaths"`
	TimeElapsedSeconds int `json:"timeElapsedSeconds"`
}

// KDRatio is kills per death, or kills when the player never died.
func (s Summary) KDRatio() float64 {
	if s.Deaths == 0 {
		return float64(s.Kills)
	}
	return float64(s.Kills) / float64(s.Deaths)
}
