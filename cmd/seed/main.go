package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/questline/api/internal/config"
	"github.com/questline/api/internal/database"
	"github.com/questline/api/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type trackFile struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	City       string          `json:"city"`
	Challenges []challengeFile `json:"challenges"`
}

type challengeFile struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Answer      string          `json:"answer"`
	Hint        string          `json:"hint"`
	LocationRef string          `json:"locationRef"`
	Location    json.RawMessage `json:"location"`
}

func main() {
	// Parse command line flags
	filePath := flag.String("file", "data/track.json", "Path to track definition file")
	flag.Parse()

	log.Printf("Seeding track from %s", *filePath)

	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migration
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	track, err := loadTrackFile(*filePath)
	if err != nil {
		log.Fatalf("Failed to load track file: %v", err)
	}

	if len(track.Challenges) == 0 {
		log.Fatalf("Track %s has no challenges", track.ID)
	}

	inserted, skipped, err := seedTrack(db, track)
	if err != nil {
		log.Fatalf("Failed to seed track: %v", err)
	}

	log.Printf("Seeding complete. Track %s: inserted=%d, skipped=%d", track.ID, inserted, skipped)
}

func loadTrackFile(path string) (*trackFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var track trackFile
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// seedTrack inserts the track and its challenge chain. The array order in
// the file is the play order; each node links to the next and the last one
// stays terminal. Existing rows are left untouched so reseeding is safe.
func seedTrack(db *gorm.DB, track *trackFile) (inserted int, skipped int, err error) {
	row := model.Track{
		ID:   track.ID,
		Name: track.Name,
		City: track.City,
	}
	result := db.Where("id = ?", row.ID).FirstOrCreate(&row)
	if result.Error != nil {
		return 0, 0, result.Error
	}

	for i, c := range track.Challenges {
		var nextID *string
		if i+1 < len(track.Challenges) {
			nextID = &track.Challenges[i+1].ID
		}

		challenge := model.Challenge{
			ID:          c.ID,
			TrackID:     track.ID,
			OrderIndex:  i + 1,
			NextID:      nextID,
			Title:       c.Title,
			Answer:      c.Answer,
			Hint:        c.Hint,
			LocationRef: c.LocationRef,
			Location:    datatypes.JSON(c.Location),
		}

		var existing model.Challenge
		if err := db.First(&existing, "id = ?", c.ID).Error; err == nil {
			skipped++
			continue
		}

		if err := db.Create(&challenge).Error; err != nil {
			log.Printf("Error inserting challenge %s: %v", c.ID, err)
			skipped++
			continue
		}
		inserted++
	}

	return inserted, skipped, nil
}
