package utils

// ConfSyncArt is the banner the client CLI prints on startup.
const ConfSyncArt = `
  ___              __  ___
 / __| ___  _ _   / _|/ __| _  _  _ _    __
| (__ / _ \| ' \ |  _|\__ \| || || ' \  / _|
 \___|\___/|_||_||_|  |___/ \_, ||_||_| \__|
                            |__/`
