package middleware

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/apcore/db"
	"github.com/deemkeen/apcore/federation/core"
	"github.com/deemkeen/apcore/util"
)

func AuthMiddleware(conf *util.AppConfig) wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			database := db.GetDB()

			// Check if IP or public key is banned
			remoteAddr := s.RemoteAddr().String()
			// Extract just the IP (remove port)
			ip := extractIP(remoteAddr)

			// Check IP ban
			if database.IsIPBanned(ip) {
				log.Printf("Blocked connection from banned IP: %s", ip)
				s.Write([]byte("You have been banned from this server.\n"))
				s.Close()
				return
			}

			// Check public key ban
			publicKeyHash := util.PkToHash(util.PublicKeyToString(s.PublicKey()))
			if database.IsPublicKeyBanned(publicKeyHash) {
				log.Printf("Blocked connection from banned public key: %s", publicKeyHash[:16])
				s.Write([]byte("You have been banned from this server.\n"))
				s.Close()
				return
			}

			found, acc := database.ReadAccBySession(s)

			switch {
			case found == nil:
				// User exists - check if muted
				if acc != nil && acc.Muted {
					log.Printf("Blocked login attempt from muted user: %s", acc.Username)
					s.Write([]byte("Your account has been muted by an administrator.\n"))
					s.Close()
					return
				}
				util.LogPublicKey(s)
			default:
				// User not found - check if registration is closed
				if conf.Conf.Closed {
					log.Printf("Rejected new user registration - registration is closed")
					s.Write([]byte("Registration is closed, but you can host your own stegodon!\n"))
					s.Write([]byte("More on: https://github.com/deemkeen/apcore\n"))
					s.Close()
					return
				}

				// Check single-user mode
				if conf.Conf.Single {
					count, err := database.CountAccounts()
					if err != nil {
						log.Printf("Error counting accounts: %v", err)
						s.Write([]byte("An error occurred. Please try again later.\n"))
						s.Close()
						return
					}
					if count >= 1 {
						log.Printf("Rejected new user registration in single-user mode")
						s.Write([]byte("This blog is in single-user mode, but you can host your own stegodon!\n"))
						s.Write([]byte("More on: https://github.com/deemkeen/apcore\n"))
						s.Close()
						return
					}
				}

				// Create new account
				database := db.GetDB()
				newUsername := util.RandomString(10)
				err, created := database.CreateAccount(s, newUsername)
				if err != nil {
					log.Println("Could not create a user: ", err)
				}

				if created != false {
					util.LogPublicKey(s)
					// Provision a vault-encrypted actor keypair (spec.md 4.2)
					// alongside the legacy web_private_key column insertUser
					// just wrote. web.GetActor prefers this keypair's public
					// key once present, so the two stay consistent.
					if c := core.Global(); c != nil {
						actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, newUsername)
						if _, err := c.Keys().EnsureKeypair(actorURI); err != nil {
							log.Printf("Could not provision federation keypair for %s: %v", newUsername, err)
						}
					}
				} else {
					log.Println("The user is still empty!")
				}

			}
			h(s)
		}
	}
}

// extractIP returns the IP part of an SSH remote address, dropping the port
// and any IPv6 brackets.
func extractIP(remoteAddr string) string {
	if strings.HasPrefix(remoteAddr, "[") {
		if end := strings.Index(remoteAddr, "]"); end != -1 {
			return remoteAddr[1:end]
		}
	}
	if strings.Count(remoteAddr, ":") == 1 {
		return remoteAddr[:strings.Index(remoteAddr, ":")]
	}
	return remoteAddr
}
